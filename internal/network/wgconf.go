package network

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/defguard/core/internal/apierr"
)

// InterfaceConfig is the wg-quick [Interface] section.
type InterfaceConfig struct {
	PrivateKey string
	Address    []string
	ListenPort int
	DNS        []string
}

// PeerConfig is one wg-quick [Peer] section.
type PeerConfig struct {
	PublicKey           string
	PresharedKey        string
	AllowedIPs           []string
	Endpoint             string
	PersistentKeepalive int
}

// Config is a full wg-quick document: one interface, any number of
// peers.
type Config struct {
	Interface InterfaceConfig
	Peers     []PeerConfig
}

// ParseWgQuick reads wg-quick's restricted ini-like grammar: bare
// "Key = Value" lines under a "[Interface]" or "[Peer]" header, "#"
// comments, blank lines ignored. No library appears anywhere in the
// retrieved pack for this format, and the grammar is small enough that
// a generic INI parser would add more surface than it saves.
func ParseWgQuick(data string) (*Config, error) {
	var cfg Config
	var currentPeer *PeerConfig
	section := ""

	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.Trim(line, "[]"))
			if section == "peer" {
				cfg.Peers = append(cfg.Peers, PeerConfig{})
				currentPeer = &cfg.Peers[len(cfg.Peers)-1]
			}
			continue
		}

		key, value, ok := splitKeyValue(line)
		if !ok {
			return nil, apierr.New(apierr.IntegrityViolation, fmt.Sprintf("wgconf: malformed line %q", line))
		}

		switch section {
		case "interface":
			if err := setInterfaceField(&cfg.Interface, key, value); err != nil {
				return nil, err
			}
		case "peer":
			if currentPeer == nil {
				return nil, apierr.New(apierr.IntegrityViolation, "wgconf: peer field before [Peer] section")
			}
			if err := setPeerField(currentPeer, key, value); err != nil {
				return nil, err
			}
		default:
			return nil, apierr.New(apierr.IntegrityViolation, "wgconf: field outside any section")
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "wgconf: scan config", err)
	}
	return &cfg, nil
}

func splitKeyValue(line string) (string, string, bool) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", false
	}
	key := strings.TrimSpace(line[:idx])
	value := strings.TrimSpace(line[idx+1:])
	return key, value, true
}

func setInterfaceField(iface *InterfaceConfig, key, value string) error {
	switch strings.ToLower(key) {
	case "privatekey":
		iface.PrivateKey = value
	case "address":
		iface.Address = splitCommaList(value)
	case "dns":
		iface.DNS = splitCommaList(value)
	case "listenport":
		port, err := strconv.Atoi(value)
		if err != nil {
			return apierr.Wrap(apierr.IntegrityViolation, "wgconf: invalid ListenPort", err)
		}
		iface.ListenPort = port
	}
	return nil
}

func setPeerField(peer *PeerConfig, key, value string) error {
	switch strings.ToLower(key) {
	case "publickey":
		peer.PublicKey = value
	case "presharedkey":
		peer.PresharedKey = value
	case "allowedips":
		peer.AllowedIPs = splitCommaList(value)
	case "endpoint":
		peer.Endpoint = value
	case "persistentkeepalive":
		n, err := strconv.Atoi(value)
		if err != nil {
			return apierr.Wrap(apierr.IntegrityViolation, "wgconf: invalid PersistentKeepalive", err)
		}
		peer.PersistentKeepalive = n
	}
	return nil
}

func splitCommaList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// exportTemplate mirrors the teacher's peerconfig.tmpl rendering in
// handlers.go, adapted to emit a full wg-quick document instead of a
// single peer's client config.
var exportTemplate = template.Must(template.New("wgquick").Funcs(map[string]interface{}{
	"join": strings.Join,
}).Parse(`[Interface]
PrivateKey = {{.Interface.PrivateKey}}
Address = {{join .Interface.Address ", "}}
{{- if .Interface.ListenPort}}
ListenPort = {{.Interface.ListenPort}}
{{- end}}
{{- if .Interface.DNS}}
DNS = {{join .Interface.DNS ", "}}
{{- end}}
{{range .Peers}}
[Peer]
PublicKey = {{.PublicKey}}
{{- if .PresharedKey}}
PresharedKey = {{.PresharedKey}}
{{- end}}
AllowedIPs = {{join .AllowedIPs ", "}}
{{- if .Endpoint}}
Endpoint = {{.Endpoint}}
{{- end}}
{{- if .PersistentKeepalive}}
PersistentKeepalive = {{.PersistentKeepalive}}
{{- end}}
{{end}}`))

// Render renders cfg back into wg-quick text.
func Render(cfg *Config) (string, error) {
	var sb strings.Builder
	if err := exportTemplate.Execute(&sb, cfg); err != nil {
		return "", apierr.Wrap(apierr.Internal, "render wg-quick config", err)
	}
	return sb.String(), nil
}
