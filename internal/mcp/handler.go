// Package mcp exposes chart rendering and the image store as MCP tools.
package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gofr-lab/gplot/pkg/auth"
	"github.com/gofr-lab/gplot/pkg/imagestore"
	"github.com/gofr-lab/gplot/pkg/render"
)

// ChartHandler implements the chart and image MCP tools. Group identity is
// never taken from a bare argument: every tool accepts an optional "token"
// argument verified through the auth service, and calls without one run
// under the handler's default group.
type ChartHandler struct {
	store        imagestore.Service
	tokens       *auth.Service
	defaultGroup *string
	logger       *slog.Logger
}

// HandlerConfig options for the MCP tool handler
type HandlerConfig struct {
	Store  imagestore.Service
	Tokens *auth.Service

	// DefaultGroup scopes calls that carry no token argument, typically
	// set from a process-wide token in stdio mode. Nil means public.
	DefaultGroup *string

	Logger *slog.Logger
}

// NewChartHandler creates a new instance of ChartHandler
func NewChartHandler(cfg HandlerConfig) *ChartHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChartHandler{
		store:        cfg.Store,
		tokens:       cfg.Tokens,
		defaultGroup: cfg.DefaultGroup,
		logger:       logger,
	}
}

// RegisterTools registers the chart tools with the MCP server
func (h *ChartHandler) RegisterTools(s *server.MCPServer) {
	s.AddTool(mcp.Tool{
		Name: "render_chart",
		Description: "Render a line, bar, or scatter chart and store the result. " +
			"Returns the GUID of the stored image. Themes: " + strings.Join(render.ThemeNames(), ", ") + ".",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"kind": map[string]interface{}{
					"type":        "string",
					"description": "Chart kind: line, bar, or scatter",
				},
				"title":   map[string]interface{}{"type": "string"},
				"x_label": map[string]interface{}{"type": "string"},
				"y_label": map[string]interface{}{"type": "string"},
				"series": map[string]interface{}{
					"type":        "array",
					"description": "Named series with x and y arrays (line and scatter charts)",
				},
				"categories": map[string]interface{}{
					"type":        "array",
					"description": "Category labels (bar charts)",
				},
				"values": map[string]interface{}{
					"type":        "array",
					"description": "Bar heights, one per category",
				},
				"theme":  map[string]interface{}{"type": "string"},
				"format": map[string]interface{}{"type": "string"},
				"alias":  map[string]interface{}{"type": "string"},
				"token":  tokenProperty,
			},
			Required: []string{"kind"},
		},
	}, h.handleRenderChart)

	s.AddTool(mcp.Tool{
		Name:        "get_image",
		Description: "Fetch a stored image by GUID or alias, returned as base64 image content",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"identifier": map[string]interface{}{"type": "string"},
				"token":      tokenProperty,
			},
			Required: []string{"identifier"},
		},
	}, h.handleGetImage)

	s.AddTool(mcp.Tool{
		Name:        "list_images",
		Description: "List the GUIDs of stored images visible to the group",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"token": tokenProperty,
			},
		},
	}, h.handleListImages)

	s.AddTool(mcp.Tool{
		Name:        "delete_image",
		Description: "Delete a stored image by GUID or alias",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"identifier": map[string]interface{}{"type": "string"},
				"token":      tokenProperty,
			},
			Required: []string{"identifier"},
		},
	}, h.handleDeleteImage)

	s.AddTool(mcp.Tool{
		Name:        "register_alias",
		Description: "Bind a human-readable alias to an image GUID within the group",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"alias": map[string]interface{}{"type": "string"},
				"guid":  map[string]interface{}{"type": "string"},
				"token": tokenProperty,
			},
			Required: []string{"alias", "guid"},
		},
	}, h.handleRegisterAlias)

	s.AddTool(mcp.Tool{
		Name:        "list_aliases",
		Description: "List alias to GUID bindings for the group",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"token": tokenProperty,
			},
		},
	}, h.handleListAliases)

	s.AddTool(mcp.Tool{
		Name:        "purge_images",
		Description: "Delete stored images older than age_days (0 deletes everything in scope)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"age_days": map[string]interface{}{"type": "integer"},
				"token":    tokenProperty,
			},
		},
	}, h.handlePurgeImages)
}

// tokenProperty is the shared schema for the optional per-call token.
var tokenProperty = map[string]interface{}{
	"type":        "string",
	"description": "Access token scoping the call to its group",
}

// callerGroup resolves the caller's group from the optional token argument.
// The group claim comes from the verified token only; calls without a token
// run under the handler's default group.
func (h *ChartHandler) callerGroup(request mcp.CallToolRequest) (*string, error) {
	token := stringArg(request, "token")
	if token == "" {
		return h.defaultGroup, nil
	}
	if h.tokens == nil {
		return nil, errors.New("token verification is not configured")
	}
	info, err := h.tokens.VerifyToken(token)
	if err != nil {
		return nil, err
	}
	return &info.Group, nil
}

func stringArg(request mcp.CallToolRequest, name string) string {
	if val, ok := request.GetArguments()[name]; ok && val != nil {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

// handleRenderChart handles the render_chart tool call
func (h *ChartHandler) handleRenderChart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// Decode the loosely typed arguments into the chart request through JSON.
	raw, err := json.Marshal(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var req render.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid chart arguments: %v", err)), nil
	}

	data, format, err := render.Render(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	group, err := h.callerGroup(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	guid, err := h.store.SaveImage(ctx, data, format, group)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	alias := stringArg(request, "alias")
	if alias != "" {
		if err := h.store.RegisterAlias(ctx, alias, guid, group); err != nil {
			if _, delErr := h.store.DeleteImage(ctx, guid, group); delErr != nil {
				h.logger.Error("failed to clean up image after alias failure", "guid", guid, "err", delErr)
			}
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	h.logger.Info("chart rendered", "guid", guid, "kind", req.Kind, "format", format)
	message := fmt.Sprintf("Chart stored as %s (%s, %d bytes)", guid, format, len(data))
	if alias != "" {
		message += fmt.Sprintf(", alias %q", alias)
	}
	return mcp.NewToolResultText(message), nil
}

// handleGetImage handles the get_image tool call
func (h *ChartHandler) handleGetImage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	identifier := stringArg(request, "identifier")
	if identifier == "" {
		return mcp.NewToolResultError("identifier is required"), nil
	}

	group, err := h.callerGroup(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, format, err := h.store.GetImage(ctx, identifier, group)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	return mcp.NewToolResultImage(
		fmt.Sprintf("Image %s (%s, %d bytes)", identifier, format, len(data)),
		encoded,
		imagestore.FormatContentType(format),
	), nil
}

// handleListImages handles the list_images tool call
func (h *ChartHandler) handleListImages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	group, err := h.callerGroup(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	guids, err := h.store.ListImages(ctx, group)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(guids) == 0 {
		return mcp.NewToolResultText("No images stored."), nil
	}
	return mcp.NewToolResultText(strings.Join(guids, "\n")), nil
}

// handleDeleteImage handles the delete_image tool call
func (h *ChartHandler) handleDeleteImage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	identifier := stringArg(request, "identifier")
	if identifier == "" {
		return mcp.NewToolResultError("identifier is required"), nil
	}

	group, err := h.callerGroup(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	deleted, err := h.store.DeleteImage(ctx, identifier, group)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !deleted {
		return mcp.NewToolResultText(fmt.Sprintf("No image found for %q.", identifier)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted %s.", identifier)), nil
}

// handleRegisterAlias handles the register_alias tool call
func (h *ChartHandler) handleRegisterAlias(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	alias := stringArg(request, "alias")
	guid := stringArg(request, "guid")
	if alias == "" || guid == "" {
		return mcp.NewToolResultError("alias and guid are required"), nil
	}

	group, err := h.callerGroup(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := h.store.RegisterAlias(ctx, alias, guid, group); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Alias %q now points to %s.", alias, guid)), nil
}

// handleListAliases handles the list_aliases tool call
func (h *ChartHandler) handleListAliases(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	group, err := h.callerGroup(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	aliases, err := h.store.ListAliases(ctx, group)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(aliases) == 0 {
		return mcp.NewToolResultText("No aliases registered."), nil
	}

	names := make([]string, 0, len(aliases))
	for alias := range aliases {
		names = append(names, alias)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, alias := range names {
		fmt.Fprintf(&sb, "%s -> %s\n", alias, aliases[alias])
	}
	return mcp.NewToolResultText(strings.TrimRight(sb.String(), "\n")), nil
}

// handlePurgeImages handles the purge_images tool call
func (h *ChartHandler) handlePurgeImages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ageDays := 0
	if val, ok := request.GetArguments()["age_days"]; ok && val != nil {
		if f, ok := val.(float64); ok {
			ageDays = int(f)
		}
	}
	if ageDays < 0 {
		return mcp.NewToolResultError("age_days must not be negative"), nil
	}

	group, err := h.callerGroup(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	purged, err := h.store.Purge(ctx, ageDays, group)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Purged %d image(s).", purged)), nil
}
