// Package config handles capture daemon configuration
package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr       string
	PersistAddr    string  // workspace backend base URL
	OverlayBin     string  // overlay helper binary; looked up on PATH when bare
	DisplayIndex   int     // which display to capture by default
	PreviewWidth   int     // thumbnail width for websocket frame previews
	OverlayTimeout float64 // seconds to wait for the helper ready handshake
	AllowedOrigins []string
}

func Load() *Config {
	return &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8400"),
		PersistAddr:    getEnv("PERSIST_ADDR", "http://localhost:8700"),
		OverlayBin:     getEnv("OVERLAY_BIN", "meshflow-overlay"),
		DisplayIndex:   getEnvInt("DISPLAY_INDEX", 0),
		PreviewWidth:   getEnvInt("PREVIEW_WIDTH", 320),
		OverlayTimeout: getEnvFloat("OVERLAY_TIMEOUT", 3.0),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
