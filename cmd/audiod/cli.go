package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"audiod/internal/config"
)

// runCLI handles subcommand execution. Returns true if a subcommand was
// handled, so main can fall through to the long-running serve path when it
// wasn't.
func runCLI(args []string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("audiod %s\n", version)
		return true
	case "config":
		return cliConfig(args[1:])
	case "status":
		return cliFetch("/health")
	case "devices":
		return cliFetch("/api/devices")
	case "bt":
		return cliFetch("/api/bt")
	default:
		return false
	}
}

// cliFetch is one-shot introspection against an already-running audiod's
// admin HTTP surface — it does not start the server loop itself.
func cliFetch(path string) bool {
	addr := config.Load().HTTPAddr
	url := "http://" + strings.TrimPrefix(addr, ":") + path
	if strings.HasPrefix(addr, ":") {
		url = "http://localhost" + addr + path
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not reach audiod at %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading response: %v\n", err)
		os.Exit(1)
	}

	var pretty any
	if json.Unmarshal(body, &pretty) == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Println(string(body))
	}
	return true
}

func cliConfig(args []string) bool {
	if len(args) == 0 || args[0] == "show" {
		out, _ := json.MarshalIndent(config.Load(), "", "  ")
		fmt.Println(string(out))
		return true
	}

	if args[0] == "set" && len(args) == 3 {
		cfg := config.Load()
		key, value := args[1], args[2]
		if err := setConfigField(&cfg, key, value); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if err := config.Save(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Set %s = %s\n", key, value)
		return true
	}

	fmt.Fprintln(os.Stderr, "Usage: audiod config [show|set <key> <value>]")
	os.Exit(1)
	return true
}

func setConfigField(cfg *config.Config, key, value string) error {
	switch key {
	case "default_output_name":
		cfg.DefaultOutputName = value
	case "default_input_name":
		cfg.DefaultInputName = value
	case "http_addr":
		cfg.HTTPAddr = value
	case "system_volume":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("system_volume must be an integer: %w", err)
		}
		cfg.SystemVolume = v
	case "system_capture_gain":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("system_capture_gain must be an integer: %w", err)
		}
		cfg.SystemCaptureGain = v
	case "bluetooth_enabled":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("bluetooth_enabled must be a bool: %w", err)
		}
		cfg.BluetoothEnabled = v
	case "metrics_interval_seconds":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("metrics_interval_seconds must be an integer: %w", err)
		}
		cfg.MetricsInterval = v
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}
