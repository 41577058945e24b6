package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the flags serveCmd exposes; a --config file, when
// given, is unmarshaled over the flag defaults before the server starts.
type fileConfig struct {
	Addr             string `yaml:"addr"`
	ServerName       string `yaml:"server_name"`
	MaxWorkers       int64  `yaml:"max_workers"`
	IdleTimeoutMS    int64  `yaml:"idle_timeout_ms"`
	MetricsAddr      string `yaml:"metrics_addr"`
	MetricsNamespace string `yaml:"metrics_namespace"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}
