// hello is the /sbin/init of the test root filesystems. It reports the arguments it was started with
// and powers the machine off.
package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

func main() {
	fmt.Printf("Hello, nerves_initramfs! args: [%s]\n", strings.Join(os.Args[1:], " "))

	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
