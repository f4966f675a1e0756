// Package autostart registers the watch daemon with the user's service
// manager so scheduled jobs run after login.
package autostart

import "runtime"

type AutoStarter interface {
	Install(execPath string) error
	Uninstall() error
	IsInstalled() (bool, error)
}

func New() AutoStarter {
	if runtime.GOOS == "linux" {
		return NewSystemd()
	}

	return &UnsupportedAutoStarter{}
}

type UnsupportedAutoStarter struct{}

func (u *UnsupportedAutoStarter) Install(_ string) error {
	return errUnsupported
}

func (u *UnsupportedAutoStarter) Uninstall() error {
	return errUnsupported
}

func (u *UnsupportedAutoStarter) IsInstalled() (bool, error) {
	return false, nil
}
