package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/trunov/captionhub/internal/config"
	"github.com/trunov/captionhub/internal/transport/handler"
	"github.com/trunov/captionhub/internal/transport/router"
)

// Cipher is the crypto round-trip service.
type Cipher struct {
	HttpServer *http.Server
	log        *logrus.Entry
}

func NewCipher(cfg *config.Config, log *logrus.Entry) *Cipher {
	return &Cipher{
		HttpServer: &http.Server{
			Handler:      router.NewCipherRouter(handler.NewCipherHandler()),
			Addr:         fmt.Sprintf(":%d", cfg.Cipher.Port),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		log: log,
	}
}

func (c *Cipher) Run(ctx context.Context) error {
	return serve(ctx, c.HttpServer, c.log)
}
