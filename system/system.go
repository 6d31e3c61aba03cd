package system

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// Version is the current version of this software.
var Version = "0.1.0"

type Information struct {
	Version       string `json:"version"`
	KernelVersion string `json:"kernel_version"`
	Architecture  string `json:"architecture"`
	OS            string `json:"os"`
	CpuCount      int    `json:"cpu_count"`
	GoVersion     string `json:"go_version"`
}

// GetSystemInformation describes the host the process is running on.
func GetSystemInformation() (*Information, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return nil, err
	}

	return &Information{
		Version:       Version,
		KernelVersion: unix.ByteSliceToString(u.Release[:]),
		Architecture:  runtime.GOARCH,
		OS:            runtime.GOOS,
		CpuCount:      runtime.NumCPU(),
		GoVersion:     runtime.Version(),
	}, nil
}
