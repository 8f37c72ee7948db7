package main

import (
	"fmt"
	"os"
	"time"
)

const newInitBin = "/sbin/init"

type bootState int

const (
	stateStart bootState = iota
	statePseudoFsReady
	stateConfigLoaded
	stateDiagnosticShell
	stateDeviceResolved
	stateRootMounted
	stateRootSwitched
	stateHandedOff
)

func (s bootState) String() string {
	switch s {
	case stateStart:
		return "START"
	case statePseudoFsReady:
		return "PSEUDO_FS_READY"
	case stateConfigLoaded:
		return "CONFIG_LOADED"
	case stateDiagnosticShell:
		return "DIAGNOSTIC_SHELL"
	case stateDeviceResolved:
		return "DEVICE_RESOLVED"
	case stateRootMounted:
		return "ROOT_MOUNTED"
	case stateRootSwitched:
		return "ROOT_SWITCHED"
	case stateHandedOff:
		return "HANDED_OFF"
	default:
		return fmt.Sprintf("bootState(%d)", int(s))
	}
}

// rootfsRequest describes the root filesystem as configured once the shell is done
type rootfsRequest struct {
	spec      string
	fstype    string
	encrypted bool
	cipher    string
	secret    string
}

func readRootfsRequest(v *vars) rootfsRequest {
	return rootfsRequest{
		spec:      v.getString("rootfs.path"),
		fstype:    v.getString("rootfs.fstype"),
		encrypted: v.getBool("rootfs.encrypted"),
		cipher:    v.getString("rootfs.cipher"),
		secret:    v.getString("rootfs.secret"),
	}
}

// booter walks the boot sequence. Everything that touches the system is reachable through its
// fields so the sequence can run against fakes.
type booter struct {
	k        kernel
	argv     []string
	environ  []string
	resolver resolver
	crypt    *cryptBuilder
	sleep    func(time.Duration)
	listen   func() (deviceEvents, error)
	shell    func(s *script) error
	openLog  func()

	initConfigPath string
	scriptPath     string

	vars   *vars
	policy waitPolicy
	state  bootState
}

func newBooter(argv []string) *booter {
	k := unixKernel{}
	return &booter{
		k:        k,
		argv:     argv,
		environ:  os.Environ(),
		resolver: newBlockResolver(),
		crypt:    newCryptBuilder(k),
		sleep:    time.Sleep,
		listen:   listenBlockEvents,
		shell: func(s *script) error {
			return runShell(s, os.Stdin, os.Stdout)
		},
		openLog:        openKmsg,
		initConfigPath: initConfigPath,
		scriptPath:     scriptPath,
		policy:         defaultWaitPolicy(),
	}
}

func (b *booter) setState(s bootState) {
	debug("%v -> %v", b.state, s)
	b.state = s
}

func (b *booter) readInitConfig() {
	c, err := readInitConfig(b.initConfigPath)
	if err != nil {
		warning("%s: %v, using defaults", b.initConfigPath, err)
		c = &InitConfig{}
	}

	if c.LogLevel != "" {
		level, err := parseLogLevel(c.LogLevel)
		if err != nil {
			warning("%s: %v", b.initConfigPath, err)
		} else {
			verbosityLevel = level
		}
	}
	if verbosityLevel >= levelDebug {
		// debug output is large, keep the kernel from dropping it
		if err := disableKmsgThrottling(); err != nil {
			info("%v", err)
		}
	}

	policy, err := c.waitPolicy()
	if err != nil {
		warning("%s: %v, using defaults", b.initConfigPath, err)
		policy = defaultWaitPolicy()
	}
	b.policy = policy
}

// loadConfig populates the store: defaults, then arguments, the U-Boot environment and finally
// the configuration script
func (b *booter) loadConfig() {
	b.readInitConfig()

	b.vars = defaultVars()
	parseArgs(b.vars, b.argv)

	if err := loadUbootEnv(b.resolver, b.vars); err != nil {
		info("U-Boot environment not loaded: %v", err)
	}

	logEach(newScript(b.vars).evalFile(b.scriptPath), warning)
}

func (b *booter) mountRoot(req rootfsRequest) error {
	waiter := newDeviceWaiter(b.resolver, b.policy)
	waiter.sleep = b.sleep
	if b.listen != nil {
		events, err := b.listen()
		if err != nil {
			info("no uevents, polling for %s: %v", req.spec, err)
		} else {
			defer events.Close()
			waiter.events = events
		}
	}
	dev, err := waiter.wait(req.spec)
	if err != nil {
		return err
	}
	b.setState(stateDeviceResolved)

	if req.encrypted {
		return mountEncrypted(b.k, b.crypt, req.spec, dev, req.fstype, req.cipher, req.secret)
	}
	return mountPlain(b.k, req.spec, dev, req.fstype)
}

func (b *booter) boot() error {
	if pid := b.k.Getpid(); pid != 1 {
		return fmt.Errorf("Must be pid 1")
	}

	logEach(setupInitramfs(b.k), warning)
	b.openLog()
	b.setState(statePseudoFsReady)

	b.loadConfig()
	b.setState(stateConfigLoaded)

	if b.vars.getBool("run_repl") {
		b.setState(stateDiagnosticShell)
		if err := b.shell(newScript(b.vars)); err != nil {
			warning("shell: %v", err)
		}
	}

	req := readRootfsRequest(b.vars)
	info("mounting %s (%s)", req.spec, req.fstype)
	if err := b.mountRoot(req); err != nil {
		return err
	}
	b.setState(stateRootMounted)

	if err := switchRoot(b.k, newRoot); err != nil {
		return err
	}
	b.setState(stateRootSwitched)

	debug("switching to %s", newInitBin)
	if err := b.k.Exec(newInitBin, b.argv, b.environ); err != nil {
		return fmt.Errorf("Couldn't run %s: %v", newInitBin, err)
	}
	b.setState(stateHandedOff)
	return nil
}

func main() {
	if err := newBooter(os.Args).boot(); err != nil {
		fatal("%v", err)
	}
}
