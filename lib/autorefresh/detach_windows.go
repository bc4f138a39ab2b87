package autorefresh

import "syscall"

const createNewProcessGroup = 0x00000200

func detached() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}
