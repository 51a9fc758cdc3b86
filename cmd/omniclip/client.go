package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"omniclip/internal/auth"
	"omniclip/internal/config"
)

// controlClient talks to the control API of a running daemon.
type controlClient struct {
	base  string
	token string
	http  *http.Client
}

func newControlClient(flags *rootFlags) (*controlClient, error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, err
	}
	if cfg.ControlAddr == "" {
		return nil, fmt.Errorf("control API is disabled (control_addr = \"off\")")
	}
	token := flags.token
	if token == "" {
		token, err = mintToken(cfg)
		if err != nil {
			return nil, err
		}
	}
	return &controlClient{
		base:  "http://" + cfg.ControlAddr,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func mintToken(cfg config.Config) (string, error) {
	if cfg.GeneratedSecret {
		return "", fmt.Errorf("no control secret configured: set OMNICLIP_CONTROL_SECRET or pass --token")
	}
	return auth.CreateToken("cli", tokenConfig(cfg))
}

func (c *controlClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

type deviceView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	Addr        string `json:"addr"`
	LastSeen    string `json:"last_seen"`
}

func newPairCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pair <url>",
		Short: "Pair the running daemon with the device showing this pairing URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newControlClient(flags)
			if err != nil {
				return err
			}
			var resp struct {
				Device deviceView `json:"device"`
			}
			if err := client.do(cmd.Context(), http.MethodPost, "/v1/pairing/join", map[string]string{"url": args[0]}, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "paired with %s\nfingerprint: %s\n", resp.Device.Name, resp.Device.Fingerprint)
			return nil
		},
	}
}

func newDevicesCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List paired devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newControlClient(flags)
			if err != nil {
				return err
			}
			var resp struct {
				Devices []deviceView `json:"devices"`
			}
			if err := client.do(cmd.Context(), http.MethodGet, "/v1/devices", nil, &resp); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(resp.Devices) == 0 {
				fmt.Fprintln(w, "no paired devices")
				return nil
			}
			for _, d := range resp.Devices {
				fmt.Fprintf(w, "%s  %-20s %s  %s\n", d.ID, d.Name, d.Fingerprint, d.Addr)
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Forget a paired device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newControlClient(flags)
			if err != nil {
				return err
			}
			return client.do(cmd.Context(), http.MethodDelete, "/v1/devices/"+args[0], nil, nil)
		},
	})
	return cmd
}

func newSendCommand(flags *rootFlags) *cobra.Command {
	var html string
	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send text to all paired devices",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newControlClient(flags)
			if err != nil {
				return err
			}
			body := map[string]string{"text": strings.Join(args, " "), "html": html}
			return client.do(cmd.Context(), http.MethodPost, "/v1/clipboard", body, nil)
		},
	}
	cmd.Flags().StringVar(&html, "html", "", "send as rich text with this HTML")
	return cmd
}

func newStatusCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the identity of the running daemon and the peers it sees",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newControlClient(flags)
			if err != nil {
				return err
			}
			var version struct {
				Version     string `json:"version"`
				DeviceID    string `json:"device_id"`
				DeviceName  string `json:"device_name"`
				Fingerprint string `json:"fingerprint"`
				Port        int    `json:"port"`
			}
			if err := client.do(cmd.Context(), http.MethodGet, "/v1/version", nil, &version); err != nil {
				return err
			}
			var peers struct {
				Peers []struct {
					DeviceID string `json:"device_id"`
					Name     string `json:"name"`
					Addr     string `json:"addr"`
				} `json:"peers"`
			}
			if err := client.do(cmd.Context(), http.MethodGet, "/v1/peers", nil, &peers); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s (%s) version %s\nfingerprint: %s\nport: %d\n",
				version.DeviceName, version.DeviceID, version.Version, version.Fingerprint, version.Port)
			fmt.Fprintf(w, "peers on the network: %d\n", len(peers.Peers))
			for _, p := range peers.Peers {
				fmt.Fprintf(w, "  %-20s %s  %s\n", p.Name, p.Addr, p.DeviceID)
			}
			return nil
		},
	}
}
