package api

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/clickguard/kit"
)

// RegisterMCP registers the clickguard tools on srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	urlProp := map[string]any{"type": "string", "description": "Page URL"}
	domainProp := map[string]any{"type": "string", "description": "Domain, e.g. example.com"}

	if s.Scanner != nil {
		kit.RegisterMCPTool(srv, &mcp.Tool{
			Name:        "clickguard_scan",
			Description: "Run a clickjacking analysis pass on a page and return its feature vector and verdict.",
			InputSchema: kit.InputSchema(map[string]any{"url": urlProp}, []string{"url"}),
		}, s.endpoints.scan, kit.DecodeArgs[scanReq]())
	}

	if s.Trust != nil {
		kit.RegisterMCPTool(srv, &mcp.Tool{
			Name:        "clickguard_trust_add",
			Description: "Add a domain to the custom trust list. Returns changed=false if it was already trusted.",
			InputSchema: kit.InputSchema(map[string]any{"domain": domainProp}, []string{"domain"}),
		}, s.endpoints.trustAdd, kit.DecodeArgs[domainReq]())

		kit.RegisterMCPTool(srv, &mcp.Tool{
			Name:        "clickguard_trust_remove",
			Description: "Remove a domain from the custom trust list. Built-in domains cannot be removed.",
			InputSchema: kit.InputSchema(map[string]any{"domain": domainProp}, []string{"domain"}),
		}, s.endpoints.trustRemove, kit.DecodeArgs[domainReq]())

		kit.RegisterMCPTool(srv, &mcp.Tool{
			Name:        "clickguard_trust_list",
			Description: "List the built-in and custom trusted domains.",
			InputSchema: kit.InputSchema(map[string]any{}, nil),
		}, s.endpoints.trustList, kit.DecodeArgs[struct{}]())

		kit.RegisterMCPTool(srv, &mcp.Tool{
			Name:        "clickguard_trust_check",
			Description: "Check whether a page URL is whitelisted.",
			InputSchema: kit.InputSchema(map[string]any{
				"url":   urlProp,
				"scope": map[string]any{"type": "string", "enum": []string{"combined", "builtin"}},
			}, []string{"url"}),
		}, s.endpoints.trustCheck, kit.DecodeArgs[checkReq]())
	}

	if s.Status != nil {
		kit.RegisterMCPTool(srv, &mcp.Tool{
			Name:        "clickguard_status",
			Description: "Last-known verdict and badge for a page.",
			InputSchema: kit.InputSchema(map[string]any{"url": urlProp}, []string{"url"}),
		}, s.endpoints.status, kit.DecodeArgs[statusReq]())
	}

	if s.Detections != nil {
		kit.RegisterMCPTool(srv, &mcp.Tool{
			Name:        "clickguard_detections",
			Description: "List journaled suspicious, clickjacking and error verdicts, newest first.",
			InputSchema: kit.InputSchema(map[string]any{
				"url":   urlProp,
				"label": map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer"},
			}, nil),
		}, s.endpoints.detections, kit.DecodeArgs[detectionsReq]())
	}
}
