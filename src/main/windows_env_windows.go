//go:build windows

package main

import (
	"log"

	"golang.org/x/sys/windows"
)

var (
	shcore = windows.NewLazySystemDLL("Shcore.dll")
	user32 = windows.NewLazySystemDLL("user32.dll")
)

// enableDPIAwareness asks for per-monitor DPI awareness so captured pixels
// match the physical screen.
func enableDPIAwareness() {
	const processPerMonitorDPIAware = 2
	setProcessDpiAwareness := shcore.NewProc("SetProcessDpiAwareness")
	if err := setProcessDpiAwareness.Find(); err == nil {
		ret, _, _ := setProcessDpiAwareness.Call(uintptr(processPerMonitorDPIAware))
		if ret == 0 {
			log.Printf("DPI: per-monitor DPI awareness enabled")
		} else {
			log.Printf("DPI: SetProcessDpiAwareness failed, code %d", ret)
		}
		return
	}

	setProcessDPIAware := user32.NewProc("SetProcessDPIAware")
	if err := setProcessDPIAware.Find(); err != nil {
		log.Printf("DPI: no DPI awareness API available")
		return
	}
	if ret, _, _ := setProcessDPIAware.Call(); ret == 0 {
		log.Printf("DPI: SetProcessDPIAware failed")
	}
}

func logMonitorConfiguration() {
	const (
		smCXScreen        = 0
		smCYScreen        = 1
		smXVirtualScreen  = 76
		smYVirtualScreen  = 77
		smCXVirtualScreen = 78
		smCYVirtualScreen = 79
		smCMonitors       = 80
	)
	getSystemMetrics := user32.NewProc("GetSystemMetrics")
	metric := func(i int) int32 {
		r, _, _ := getSystemMetrics.Call(uintptr(i))
		return int32(r)
	}
	log.Printf("MONITOR: %d monitors, virtual screen x:%d y:%d w:%d h:%d, primary w:%d h:%d",
		metric(smCMonitors),
		metric(smXVirtualScreen), metric(smYVirtualScreen), metric(smCXVirtualScreen), metric(smCYVirtualScreen),
		metric(smCXScreen), metric(smCYScreen))
}
