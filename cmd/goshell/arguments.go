package main

import (
	f "fmt"
	"os"

	ssh "github.com/cyberpanther232/goshell"
)

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func indexOf(slice []string, item string) int {
	for i, s := range slice {
		if s == item {
			return i
		}
	}
	return -1
}

func generateSampleConfig() error {
	if _, err := os.Stat("goshell.conf"); err == nil {
		f.Println("Configuration file 'goshell.conf' already exists. Aborting generation.")
		return nil
	}

	sampleConfig := `# Sample goshell configuration file
# Format:
# host_config_name
#   hostname your.ssh.server
#   port 22
#   user your_username
#   keybasedauthentication yes|no
#   identityfile /path/to/your/private/key
sample_host
  hostname example.com
  port 22
  user testuser
  keybasedauthentication no
`
	if err := os.WriteFile("goshell.conf", []byte(sampleConfig), 0644); err != nil {
		return err
	}
	f.Println("Sample configuration file 'goshell.conf' generated.")
	return nil
}

// parseArgs mirrors the teacher's flag handling: a flat []string scan
// rather than the standard library's flag package, since goshell's options
// are few and some (--help, --version) must exit immediately mid-scan.
func parseArgs(args []string) (map[string]string, error) {
	parsedArgs := make(map[string]string)

	if contains(args, "--help") {
		f.Println("goshell - an SSH protocol v2 client")
		f.Println("Usage: goshell [options]")
		f.Println("Options:")
		f.Println("  --help                     Show this help message")
		f.Println("  --config <file>            Specify alternative configuration file")
		f.Println("  --version                  Show version information")
		f.Println("  --host <host-config-name>  Specify host to connect to")
		f.Println("  --list-hosts               List available hosts in configuration")
		f.Println("  --generate-config          Generate a sample configuration file")
		f.Println("  --cmd <command>            Run a single remote command instead of a shell")
		os.Exit(0)
	}

	if contains(args, "--generate-config") {
		if err := generateSampleConfig(); err != nil {
			return nil, err
		}
		os.Exit(0)
	}

	if contains(args, "--config") {
		idx := indexOf(args, "--config")
		if idx >= 0 && idx+1 < len(args) {
			parsedArgs["configurationPath"] = args[idx+1]
		} else {
			return nil, f.Errorf("--config requires a value")
		}
	}

	if contains(args, "--version") {
		f.Println("goshell version 2.0")
		os.Exit(0)
	}

	if contains(args, "--list-hosts") {
		configurationPath := "goshell.conf"
		if parsedArgs["configurationPath"] != "" {
			configurationPath = parsedArgs["configurationPath"]
		}
		configuration, err := ssh.LoadHostConfig(configurationPath)
		if err != nil {
			return nil, err
		}
		if len(configuration) == 0 {
			f.Println("No hosts found in configuration.")
			return nil, nil
		}
		f.Println("Available Hosts:")
		for host := range configuration {
			f.Println(" -", host)
		}
		os.Exit(0)
	}

	if contains(args, "--host") {
		idx := indexOf(args, "--host")
		if idx >= 0 && idx+1 < len(args) {
			parsedArgs["host"] = args[idx+1]
		} else {
			return nil, f.Errorf("--host requires a value")
		}
	}

	if contains(args, "--cmd") {
		idx := indexOf(args, "--cmd")
		if idx >= 0 && idx+1 < len(args) {
			parsedArgs["cmd"] = args[idx+1]
		} else {
			return nil, f.Errorf("--cmd requires a value")
		}
	}

	return parsedArgs, nil
}
