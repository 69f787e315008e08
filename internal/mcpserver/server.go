// Package mcpserver exposes the tool registry as a Model Context Protocol
// server. Tools that need user confirmation take an extra required
// "confirm" argument and refuse to run unless it is true.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/soyeahso/shopagent/internal/logging"
	"github.com/soyeahso/shopagent/internal/tools"
	"github.com/soyeahso/shopagent/internal/version"
)

// ConfirmArg is the argument a client sets to approve a gated tool.
const ConfirmArg = "confirm"

// Server adapts a tool registry to MCP.
type Server struct {
	mcp *server.MCPServer
	reg *tools.Registry
	log *logging.Logger
}

// New builds an MCP server advertising every tool currently registered.
func New(reg *tools.Registry, log *logging.Logger) *Server {
	s := &Server{
		mcp: server.NewMCPServer(version.Name, version.Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		reg: reg,
		log: log.Sub("mcp"),
	}
	for _, meta := range reg.List() {
		s.mcp.AddTool(Tool(meta), s.handler(meta))
	}
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio speaks MCP over the given streams until ctx is cancelled or
// in reaches EOF.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	std := server.NewStdioServer(s.mcp)
	std.SetErrorLogger(stdlog.New(s.log.Zerolog(), "", 0))
	s.log.Info().Int("tools", s.reg.Len()).Msg("serving tools over MCP stdio")
	err := std.Listen(ctx, in, out)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Tool converts tool metadata to an MCP tool declaration.
func Tool(meta tools.Metadata) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(meta.Description)}
	for _, f := range meta.Schema {
		opts = append(opts, property(f))
	}
	if meta.RequiresConfirmation {
		opts = append(opts, mcp.WithBoolean(ConfirmArg,
			mcp.Required(),
			mcp.Description("Set to true once the user has approved this action."),
		))
	}
	return mcp.NewTool(meta.Name, opts...)
}

func property(f tools.Field) mcp.ToolOption {
	var popts []mcp.PropertyOption
	if f.Description != "" {
		popts = append(popts, mcp.Description(f.Description))
	}
	if f.Required {
		popts = append(popts, mcp.Required())
	}
	if len(f.Enum) > 0 {
		popts = append(popts, mcp.Enum(f.Enum...))
	}

	switch f.Kind {
	case tools.KindNumber, tools.KindInteger:
		return mcp.WithNumber(f.Name, popts...)
	case tools.KindBoolean:
		return mcp.WithBoolean(f.Name, popts...)
	case tools.KindArray:
		return mcp.WithArray(f.Name, popts...)
	case tools.KindObject:
		return mcp.WithObject(f.Name, popts...)
	default:
		return mcp.WithString(f.Name, popts...)
	}
}

func (s *Server) handler(meta tools.Metadata) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := tools.Args{}
		for k, v := range req.GetArguments() {
			args[k] = v
		}

		if meta.RequiresConfirmation {
			if !args.Bool(ConfirmArg, false) {
				return mcp.NewToolResultError(fmt.Sprintf("%s needs user confirmation; ask the user, then call again with %s=true", meta.Name, ConfirmArg)), nil
			}
			delete(args, ConfirmArg)
		}

		res, err := s.reg.Execute(ctx, meta.Name, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		s.log.Debug().Str("tool", meta.Name).Bool("success", res.Success).Msg("mcp tool call")
		if !res.Success {
			return mcp.NewToolResultError(res.JSON()), nil
		}
		return mcp.NewToolResultText(res.JSON()), nil
	}
}
