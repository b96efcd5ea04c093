package banner

import "fmt"

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║     ███████║███████║   ██║   ███████╗ ╚████╔╝ ██╔██╗ ██║██║
██║     ██╔══██║██╔══██║   ██║   ╚════██║  ╚██╔╝  ██║╚██╗██║██║
╚██████╗██║  ██║██║  ██║   ██║   ███████║   ██║   ██║ ╚████║╚██████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`

// Print writes the startup banner with the effective listen address and
// store path.
func Print(addr, dbPath, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/conversations/direct - Resolve or create a direct conversation")
	fmt.Println("POST /v1/conversations/{id}/messages - Send a message")
	fmt.Println("GET  /v1/conversations/{id}/messages?limit=<n>&cursor=<id> - Page history")
	fmt.Println("GET  /v1/stream - WebSocket event stream")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://%s/v1/conversations/direct' -H 'X-User-ID: alice' -d '{\"peerId\":\"bob\"}'\n", addr)
	fmt.Printf("curl 'http://%s/v1/conversations/<id>/messages?limit=10' -H 'X-User-ID: alice'\n", addr)
}
