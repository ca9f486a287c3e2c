package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zentalk-labs/zentalk-dht/pkg/dht"
	"github.com/zentalk-labs/zentalk-dht/pkg/identity"
)

// statusServer is the read-only HTTP status/debug surface (spec.md §6's
// ambient stack carries an observability surface regardless of the
// distilled spec's feature Non-goals). Grounded on
// pkg/meshstorage/api/server.go's gin.Engine + /api/v1 route grouping.
type statusServer struct {
	node   *dht.Node
	router *gin.Engine
	http   *http.Server
}

func newStatusServer(node *dht.Node, port int) *statusServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	s := &statusServer{node: node, router: router}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *statusServer) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		node := v1.Group("/node")
		{
			node.GET("/info", s.handleNodeInfo)
		}
		dhtGroup := v1.Group("/dht")
		{
			dhtGroup.GET("/lookup/:target", s.handleLookup)
		}
	}
	s.router.GET("/health", s.handleHealth)
}

func (s *statusServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *statusServer) handleNodeInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"node_id":     s.node.ID().String(),
		"known_peers": s.node.KnownPeerCount(),
	})
}

func (s *statusServer) handleLookup(c *gin.Context) {
	targetHex := c.Param("target")
	target, err := dht.ParseNodeIDHex(targetHex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := s.node.Lookup(c.Request.Context(), target, dht.FindNodeK)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	hasher := identity.Hasher{}
	ids := make([]string, len(records))
	for i, rec := range records {
		hash := hasher.Hash(rec.ID)
		ids[i] = dht.NodeID(hash).String()
	}
	c.JSON(http.StatusOK, gin.H{"nodes": ids})
}

func (s *statusServer) start() error {
	return s.http.ListenAndServe()
}
