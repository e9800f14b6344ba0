// Package control
// Author: momentics <momentics@gmail.com>
//
// Control plane around the ingest reactor: layered configuration with
// hot reload, Prometheus metrics fed by reactor events, named debug probes
// and the HTTP endpoint exposing them.
package control
