package gateway

import "net/http"

// maxBodyBytes caps JSON request bodies on the HTTP API.
const maxBodyBytes = 4 * 1024 * 1024

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/agent/chat", s.handleChat)

	mux.HandleFunc("GET /api/conversations", s.handleConversations)
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleConversationMessages)
	mux.HandleFunc("GET /api/conversations/{id}/summary", s.handleConversationSummary)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleConversationDelete)

	mux.HandleFunc("GET /api/tools", s.handleTools)
	mux.HandleFunc("GET /api/tools/stats", s.handleToolStats)

	mux.HandleFunc("POST /api/rag/documents", s.handleRAGUpsert)
	mux.HandleFunc("GET /api/rag/sources", s.handleRAGSources)
	mux.HandleFunc("DELETE /api/rag/sources/{id}", s.handleRAGRemove)
	mux.HandleFunc("POST /api/rag/search", s.handleRAGSearch)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all WebSocket RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("tools.list", s.rpcToolsList)
	s.Handle("rag.search", s.rpcRAGSearch)
	s.Handle("conversation.history", s.rpcConversationHistory)
}
