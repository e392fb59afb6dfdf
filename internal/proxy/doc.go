// Package proxy implements the Proxy Reloader: validate the reverse-proxy
// configuration, and reload the proxy only if validation passed.
//
// Two controllers are provided. CommandController runs host commands
// (`nginx -t`, `systemctl reload nginx`) and is the default.
// DockerController drives an nginx that runs inside a container, using the
// Docker Engine API to exec the config test and to send SIGHUP.
package proxy
