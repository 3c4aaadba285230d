package probe

import (
	"net/http"

	"a11yscout-mcp-server/internal/config"

	"go.uber.org/zap"
)

// Set maps each action to the probe that serves it.
type Set map[Action]Probe

// NewLocalSet builds the three in-process probes on a shared opener.
func NewLocalSet(opener Opener, axeCfg config.AxeConfig, sink FactSink, logger *zap.Logger) Set {
	return Set{
		Crawl:    NewCrawlProbe(opener, sink, logger.Named("crawl")),
		Axe:      NewAxeProbe(opener, axeCfg, sink, logger.Named("axe")),
		Keyboard: NewKeyboardProbe(opener, sink, logger.Named("keyboard")),
	}
}

// NewRemoteSet builds probes that call another server's /tools endpoints.
func NewRemoteSet(baseURL string, client *http.Client) Set {
	s := make(Set, len(Actions))
	for _, a := range Actions {
		s[a] = NewRemoteProbe(a, baseURL, client)
	}
	return s
}
