package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"iioboard/host/httpapi"
	"iioboard/host/log"
)

const shutdownTimeout = 5 * time.Second

// NewServeCommand exposes the board over HTTP until interrupted
func NewServeCommand(o *Options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the board over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if addr == "" {
				addr = o.Config.HTTP.Addr
			}
			s, err := o.Connect(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			st, err := o.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()

			api := &httpapi.Server{Board: s.MCU, Store: st, CaptureTimeout: o.Config.Capture.Timeout}
			srv := &http.Server{Addr: addr, Handler: api.Router()}
			errc := make(chan error, 1)
			go func() {
				log.Info("listening on %s", addr)
				errc <- srv.ListenAndServe()
			}()
			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}
