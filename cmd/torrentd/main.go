package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/kardianos/service"
	"github.com/stone-age-io/torrentd/internal/agent"
	"github.com/stone-age-io/torrentd/internal/config"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

// program adapts the agent to the service manager
type program struct {
	configPath string
	agent      *agent.Agent
}

func (p *program) Start(s service.Service) error {
	a, err := agent.New(p.configPath, version)
	if err != nil {
		return err
	}
	p.agent = a
	p.agent.Start()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.agent == nil {
		return nil
	}
	return p.agent.Shutdown()
}

func main() {
	configPath := flag.String("config", config.GetDefaultConfigPath(), "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	action := flag.String("service", "", "service control: install, uninstall, start, stop, restart (omit to run)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("torrentd %s\n", version)
		return
	}

	svcConfig := &service.Config{
		Name:        "torrentd",
		DisplayName: "torrentd",
		Description: "Managed BitTorrent listener controlled over NATS",
		Arguments:   []string{"-config", *configPath},
	}

	prg := &program{configPath: *configPath}
	svc, err := service.New(prg, svcConfig)
	if err != nil {
		log.Fatalf("failed to create service: %v", err)
	}

	if *action != "" {
		if err := service.Control(svc, *action); err != nil {
			log.Fatalf("service %s failed: %v (valid actions: %q)", *action, err, service.ControlAction)
		}
		fmt.Printf("service %s: ok\n", *action)
		return
	}

	if err := svc.Run(); err != nil {
		log.Printf("torrentd exited with error: %v", err)
		os.Exit(1)
	}
}
