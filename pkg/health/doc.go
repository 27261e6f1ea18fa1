// Package health provides reusable HTTP and TCP reachability checkers with
// hysteresis-based status tracking, used to probe the identity service, the
// relational store and the blob store for the control plane's /ready
// endpoint.
package health
