// Package banner prints the startup banner with the effective runtime
// configuration.
package banner

import (
	"fmt"
	"strings"

	"chatrelay/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗██████╗ ███████╗██╗      █████╗ ██╗   ██╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝
██║     ███████║███████║   ██║   ██████╔╝█████╗  ██║     ███████║ ╚████╔╝
██║     ██╔══██║██╔══██║   ██║   ██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝
╚██████╗██║  ██║██║  ██║   ██║   ██║  ██║███████╗███████╗██║  ██║   ██║
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝
`

// Print shows the banner plus the effective listen address, storage
// path and config source.
func Print(cfg *config.Config, source, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", cfg.Addr())
	fmt.Printf("DB Path:  %s\n", cfg.Server.DBPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if source != "" {
		fmt.Printf("Config:   %s\n", source)
	}
	if cfg.Retention.Enabled {
		cron := cfg.Retention.Cron
		if cron == "" {
			cron = "0 2 * * *"
		}
		fmt.Printf("Retention: enabled (%s)\n", cron)
	}
	if origins := cfg.Security.CORS.AllowedOrigins; len(origins) > 0 {
		fmt.Printf("Origins:  %s\n", strings.Join(origins, ", "))
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET /ws?user=<id>                    - websocket session")
	fmt.Println("GET /v1/chats/{chatID}/messages      - chat history")
	fmt.Println("GET /v1/users/{userID}/chats         - chat summaries")
	fmt.Println("GET /v1/users/{userID}/presence      - presence lookup")
	fmt.Println("GET /metrics                         - Prometheus metrics")
}
