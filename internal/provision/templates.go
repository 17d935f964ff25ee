package provision

import (
	"sort"
	"text/template"
)

const httpSiteTemplate = `server {
    listen 80;
    listen [::]:80;
    server_name {{ .Domain }};

    location /.well-known/acme-challenge/ {
        root {{ .Webroot }};
    }

    location / {
        proxy_pass http://127.0.0.1:{{ .Port }};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
    }
}
`

const httpsSiteTemplate = `server {
    listen 80;
    listen [::]:80;
    server_name {{ .Domain }};

    location /.well-known/acme-challenge/ {
        root {{ .Webroot }};
    }

    location / {
        return 301 https://$host$request_uri;
    }
}

server {
    listen 443 ssl http2;
    listen [::]:443 ssl http2;
    server_name {{ .Domain }};

    ssl_certificate {{ .CertPath }};
    ssl_certificate_key {{ .KeyPath }};
    ssl_protocols TLSv1.2 TLSv1.3;
    ssl_prefer_server_ciphers off;
    ssl_session_cache shared:SSL:10m;

    location / {
        proxy_pass http://127.0.0.1:{{ .Port }};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto https;
    }
}
`

const appServiceTemplate = `[Unit]
Description={{ .Name }} application server
After=network.target {{ .After }}

[Service]
Type=simple
User={{ .User }}
Group={{ .User }}
WorkingDirectory={{ .Dir }}
EnvironmentFile={{ .EnvFile }}
ExecStart={{ .ExecStart }}
Restart=on-failure
RestartSec=5
StandardOutput=journal
StandardError=journal
SyslogIdentifier={{ .Name }}

[Install]
WantedBy=multi-user.target
`

const appEnvTemplate = `{{ range .Vars }}{{ .Key }}={{ .Value }}
{{ end }}`

var (
	httpSiteTmpl   = template.Must(template.New("http-site").Parse(httpSiteTemplate))
	httpsSiteTmpl  = template.Must(template.New("https-site").Parse(httpsSiteTemplate))
	appServiceTmpl = template.Must(template.New("app-service").Parse(appServiceTemplate))
	appEnvTmpl     = template.Must(template.New("app-env").Parse(appEnvTemplate))
)

type siteData struct {
	Domain   string
	Webroot  string
	Port     int
	CertPath string
	KeyPath  string
}

type appServiceData struct {
	Name      string
	User      string
	Dir       string
	EnvFile   string
	ExecStart string
	After     string
}

type envVar struct {
	Key   string
	Value string
}

type appEnvData struct {
	Vars []envVar
}

// sortedEnv renders map entries in a stable order so an unchanged
// environment never rewrites the file.
func sortedEnv(vars map[string]string) []envVar {
	out := make([]envVar, 0, len(vars))
	for k, v := range vars {
		out = append(out, envVar{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
