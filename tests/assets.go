package tests

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	ext4UUID  = "5c92fc66-7315-408b-b652-176dc554d370"
	ext4Label = "atestlabel12"

	// aes-256 key of the encrypted rootfs, the mapping uses "aes-cbc-plain"
	cryptKey = "a9f1c0de5b7e3a2d4c6b8e0f1a3c5e7d9b2d4f6a8c0e1b3d5f7a9c2e4b6d8f0a"
)

type assetGenerator func(output string) error

var assetGenerators = map[string]assetGenerator{
	"ext4.img":  generateExt4,
	"crypt.img": generateCrypt,
}

// checkAsset generates the asset unless it exists already
func checkAsset(file string) error {
	if !strings.HasPrefix(file, "assets/") {
		return fmt.Errorf("asset path has to start with assets/ prefix: %s", file)
	}

	name := file[7:]
	gen, ok := assetGenerators[name]
	if !ok {
		return fmt.Errorf("no generator for asset %s", file)
	}
	if fileExists(file) {
		return nil
	}

	if testing.Verbose() {
		fmt.Printf("Generating asset %s\n", name)
	}
	_ = os.Mkdir("assets", 0o755)
	err := gen(file)
	if err != nil {
		_ = os.Remove(file)
	}
	return err
}

// generateExt4 creates an ext4 image with the hello binary as /sbin/init
func generateExt4(output string) error {
	root, err := os.MkdirTemp("", "rootfs")
	if err != nil {
		return err
	}
	defer os.RemoveAll(root)

	if err := os.MkdirAll(filepath.Join(root, "sbin"), 0o755); err != nil {
		return err
	}
	hello, err := os.ReadFile(filepath.Join(binariesDir, "hello"))
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(root, "sbin", "init"), hello, 0o755); err != nil {
		return err
	}
	for _, d := range []string{"dev", "proc", "sys"} {
		if err := os.Mkdir(filepath.Join(root, d), 0o755); err != nil {
			return err
		}
	}

	return run("mkfs.ext4", "-q", "-F", "-U", ext4UUID, "-L", ext4Label, "-d", root, output, "32M")
}

// generateCrypt encrypts the ext4 image the way dm-crypt "aes-cbc-plain" does: every 512 byte sector
// uses CBC with the little-endian 32 bit sector number as IV.
func generateCrypt(output string) error {
	const ext4Image = "assets/ext4.img"
	if !fileExists(ext4Image) {
		if err := generateExt4(ext4Image); err != nil {
			_ = os.Remove(ext4Image)
			return err
		}
	}
	plain, err := os.ReadFile(ext4Image)
	if err != nil {
		return err
	}

	encrypted, err := encryptPlain(plain, cryptKey)
	if err != nil {
		return err
	}
	return os.WriteFile(output, encrypted, 0o644)
}

const sectorSize = 512

// encryptPlain applies aes-cbc-plain with the hex encoded key to every sector of data
func encryptPlain(data []byte, hexKey string) ([]byte, error) {
	if len(data)%sectorSize != 0 {
		return nil, fmt.Errorf("data size %d is not a multiple of the sector size", len(data))
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	encrypted := make([]byte, len(data))
	iv := make([]byte, aes.BlockSize)
	for off := 0; off < len(data); off += sectorSize {
		binary.LittleEndian.PutUint32(iv, uint32(off/sectorSize))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(encrypted[off:off+sectorSize], data[off:off+sectorSize])
	}
	return encrypted, nil
}
