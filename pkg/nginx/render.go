package nginx

import (
	"bytes"
	"fmt"
	"path/filepath"
	"text/template"
)

// Site is the input of one rendered server block
type Site struct {
	Name            string
	Domain          string
	Port            int
	UseTLS          bool
	// UseHTTP2 applies to the 443 listener only. Port 80 never speaks h2c:
	// browsers do not use it and nginx would then refuse HTTP/1.1 there.
	UseHTTP2        bool
	MaxBodySize20MB bool
}

// TLSFiles locates the certificate material referenced by the TLS form
type TLSFiles struct {
	// LiveDir holds one directory per domain (/etc/letsencrypt/live)
	LiveDir string

	// DHParam is the shared Diffie-Hellman parameter file
	DHParam string
}

// Certificate returns the certificate chain path for domain
func (f TLSFiles) Certificate(domain string) string {
	return filepath.Join(f.LiveDir, domain, "fullchain.pem")
}

// Key returns the private key path for domain
func (f TLSFiles) Key(domain string) string {
	return filepath.Join(f.LiveDir, domain, "privkey.pem")
}

var siteTemplate = template.Must(template.New("site").Parse(`# Managed by burrow for instance {{.Name}}. Regenerated on every change.
{{- if .UseTLS}}
server {
    listen 80;
    listen [::]:80;
    server_name {{.Domain}};

    location / {
        return 301 https://$host$request_uri;
    }
}

server {
    listen 443 ssl{{if .UseHTTP2}} http2{{end}};
    listen [::]:443 ssl{{if .UseHTTP2}} http2{{end}};
    server_name {{.Domain}};

    ssl_certificate {{.Certificate}};
    ssl_certificate_key {{.Key}};
    ssl_dhparam {{.DHParam}};
    ssl_protocols TLSv1.2 TLSv1.3;
    ssl_prefer_server_ciphers off;
    ssl_session_cache shared:SSL:10m;
    ssl_session_timeout 1d;{{template "body" .}}
}
{{- else}}
server {
    listen 80;
    listen [::]:80;
    server_name {{.Domain}};{{template "body" .}}
}
{{- end}}
{{- define "body"}}
{{- if .MaxBodySize20MB}}
    client_max_body_size 20M;
{{- end}}

    add_header X-Frame-Options "SAMEORIGIN" always;
    add_header X-Content-Type-Options "nosniff" always;
    add_header Referrer-Policy "strict-origin-when-cross-origin" always;
    add_header X-XSS-Protection "1; mode=block" always;

    location / {
        proxy_pass http://127.0.0.1:{{.Port}};
        proxy_http_version 1.1;
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
        proxy_read_timeout 360s;
    }
{{- end}}
`))

type siteView struct {
	Site
	Certificate string
	Key         string
	DHParam     string
}

// Render produces the nginx server block(s) for site. The HTTP-only form is a
// single port 80 block. The TLS form redirects port 80 to HTTPS and serves a
// port 443 block referencing the domain's certificate and the shared DH
// parameters.
func Render(site Site, files TLSFiles) (string, error) {
	if site.Domain == "" || site.Port == 0 {
		return "", fmt.Errorf("site %q needs a domain and a port", site.Name)
	}

	view := siteView{Site: site}
	if site.UseTLS {
		view.Certificate = files.Certificate(site.Domain)
		view.Key = files.Key(site.Domain)
		view.DHParam = files.DHParam
	}

	var buf bytes.Buffer
	if err := siteTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to render site %s: %w", site.Name, err)
	}
	return buf.String(), nil
}
