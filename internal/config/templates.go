package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `listen_addr = ":4840"
endpoint_url = "opc.tcp://localhost:4840/"
admin_listen_addr = "127.0.0.1:9840"
# admin_token = "change-me"
application_name = "opcuactl server"
abort_node_id = "ns=2;s=abort"
abort_poll_interval = "1s"

[session]
receive_buffer_size = 32768
send_buffer_size = 32768
max_message_size = 16384
max_chunk_count = 1
security_policy = "none"
hello_timeout = "5s"
poll_interval = "50ms"

[[variables]]
node_id = "ns=2;s=temperature"
name = "Temperature"
type = "Double"
value = "21.5"
writable = true

[[variables]]
node_id = "ns=2;s=serial"
name = "SerialNumber"
type = "String"
value = "SN-0001"
`

const clientTemplate = `endpoint_url = "opc.tcp://localhost:4840/"
max_connect_attempts = 3

[session]
connect_timeout = "5s"
handshake_timeout = "5s"
request_timeout = "10s"
requested_lifetime = "10m"

[session.backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true
`
