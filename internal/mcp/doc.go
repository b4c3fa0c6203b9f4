// Package mcp loads and watches the MCP server configuration consumed by
// the agent runtime.
//
// # Overview
//
// MCP (Model Context Protocol) servers extend the agent with external
// tools. This package parses the standard mcp_servers.json format and
// exposes the tool names the runtime is allowed to use.
//
// # Configuration Format
//
//	{
//	  "mcpServers": {
//	    "files": {
//	      "type": "stdio",
//	      "command": "mcp-files",
//	      "args": ["--root", "/data"],
//	      "allowedTools": ["read", "write"]
//	    },
//	    "search": {
//	      "type": "http",
//	      "url": "http://localhost:8900/mcp",
//	      "headers": {"X-Token": "..."}
//	    }
//	  }
//	}
//
// Stdio servers launch a local command; http and sse servers connect to a
// URL. The type defaults to stdio. Entries that cannot work (stdio without
// a command, http without a url, unknown types) are dropped with a warning.
//
// # Tool Names
//
// Allowed tools are formatted mcp__<server>__<tool>, matching the naming
// the runtime expects:
//
//	mcp__files__read
//	mcp__files__write
//
// # Hot Reload
//
// The Manager caches the parsed config and watches the file with fsnotify,
// swapping the cached config atomically when the file changes. A missing or
// malformed file degrades to an empty config with a logged error; the
// server keeps running without MCP tools.
package mcp
