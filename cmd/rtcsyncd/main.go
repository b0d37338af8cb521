package main

//go-build: CGO_ENABLED=0

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"
	"github.com/mattn/go-isatty"

	"github.com/robotalks/rtcsync/pkg/cli/sh"
	fx "github.com/robotalks/rtcsync/pkg/framework"
	"github.com/robotalks/rtcsync/pkg/report"
	"github.com/robotalks/rtcsync/pkg/report/mqtt"
	"github.com/robotalks/rtcsync/pkg/rtc/device"
	"github.com/robotalks/rtcsync/pkg/timesync"
)

const forcedExitGrace = 500 * time.Millisecond

func init() {
	timesync.SetupFlags()
	mqtt.SetupFlags()
}

func main() {
	flag.Parse()
	code := run()
	glog.Flush()
	os.Exit(code)
}

func chooser() sh.Chooser {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return nil
	}
	return ishell.New().MultiChoice
}

func selectDevice(conf *timesync.Config) (string, error) {
	if conf.Device != "" {
		return conf.Device, nil
	}
	paths, err := device.Discover()
	if err != nil {
		return "", err
	}
	return sh.PickDevice(paths, chooser())
}

func run() int {
	conf := timesync.NewConfig()
	if err := conf.Validate(); err != nil {
		log.Println(err)
		return timesync.ExitUsage
	}

	path, err := selectDevice(conf)
	if err != nil {
		glog.Errorf("select device: %v", err)
		fmt.Println("Check connections to the clock.")
		return timesync.ExitDeviceError
	}

	reporters := report.Multi{report.NewConsole()}
	runner := fx.NewRunner().HandleSignals()
	if mqttConf := mqtt.NewConfig(); mqttConf.Enabled() {
		svc, err := mqttConf.NewService()
		if err != nil {
			log.Println(err)
			return timesync.ExitUsage
		}
		svc.Connect()
		reporters = append(reporters, svc.Reporter)
		runner.Go(svc)
	}

	s, err := conf.NewScheduler(path, reporters)
	if err != nil {
		log.Println(err)
		return timesync.ExitUsage
	}
	if err := runner.Go(s).Wait(); errors.Is(err, fx.ErrForcedExit) {
		// an in-flight exchange ends within the read timeout, then the
		// scheduler releases the device.
		select {
		case <-s.Done():
		case <-time.After(conf.ReadTimeout + forcedExitGrace):
			glog.Warningf("%s not released", path)
		}
		return timesync.ExitDeviceError
	}

	err = s.Err()
	if err != nil && !errors.Is(err, timesync.ErrDisconnected) {
		fmt.Println("Error occurred. Is the clock connected?")
	}
	return timesync.ExitCode(err)
}
