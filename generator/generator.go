package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mount points and directories that init expects in the image. init creates the pseudo filesystem
// mount points itself if they are missing but having them in the image saves the syscalls.
var imageDirs = []string{"/dev", "/proc", "/sys", "/mnt", "/sbin", "/etc"}

func generateInitRamfs(conf *generatorConfig) error {
	if _, err := os.Stat(conf.output); (err == nil || !os.IsNotExist(err)) && !conf.forceOverwrite {
		return fmt.Errorf("File %v exists, please specify --force if you want to overwrite it", conf.output)
	}

	img, err := NewImage(conf.output, conf.compression)
	if err != nil {
		return err
	}
	defer img.Cleanup()

	for _, d := range imageDirs {
		if err := img.AppendDirEntry(d); err != nil {
			return err
		}
	}

	if err := img.appendInitBinary(conf.initBinary); err != nil {
		return err
	}

	if conf.script != "" {
		content, err := os.ReadFile(conf.script)
		if err != nil {
			return err
		}
		if err := img.AppendContent(scriptPath, 0o644, content); err != nil {
			return err
		}
	}

	if err := img.appendInitConfig(&conf.initConfig); err != nil {
		return err
	}

	if err := img.appendExtraFiles(conf.extraFiles); err != nil {
		return err
	}

	return img.Close()
}

func (img *Image) appendInitBinary(initBinary string) error {
	content, err := os.ReadFile(initBinary)
	if err != nil {
		return fmt.Errorf("%s: %v", initBinary, err)
	}
	checkStaticElf(initBinary, content)
	return img.AppendContent("/init", 0o755, content)
}

func (img *Image) appendExtraFiles(files []extraFile) error {
	for _, f := range files {
		if err := img.AppendFile(f.src, f.dest); err != nil {
			return err
		}
	}
	return nil
}

func (img *Image) appendInitConfig(initConfig *InitConfig) error {
	content, err := yaml.Marshal(initConfig)
	if err != nil {
		return err
	}

	return img.AppendContent(initConfigPath, 0o644, content)
}
