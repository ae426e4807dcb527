package rediscluster

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint identifies one cluster member. Its Key form "host:port" is
// the stable identity used by the slot map and the connection pool.
type Endpoint struct {
	Host     string
	Port     int
	ReadOnly bool
}

// Key returns the "host:port" identity of the endpoint.
func (e Endpoint) Key() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Key()
}

// parseEndpoint accepts the forms a startup node may take: a
// "host:port" address, a bare ":port", or a redis:// / rediss:// URL.
// Any db selector in a URL path is discarded, cluster sessions always
// use logical database 0.
func parseEndpoint(s string) (Endpoint, error) {
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return Endpoint{}, err
		}
		switch u.Scheme {
		case "redis", "rediss":
		default:
			return Endpoint{}, errors.New("rediscluster: unsupported URL scheme " + u.Scheme)
		}
		host := u.Hostname()
		port := u.Port()
		if port == "" {
			port = "6379"
		}
		return endpointFromHostPort(host, port)
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, err
	}
	return endpointFromHostPort(host, port)
}

func endpointFromHostPort(host, port string) (Endpoint, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return Endpoint{}, errors.New("rediscluster: invalid port " + strconv.Quote(port))
	}
	return Endpoint{Host: host, Port: n}, nil
}

// parseEndpoints parses the startup node list. It fails on an empty
// list or on any malformed entry.
func parseEndpoints(addrs []string) ([]Endpoint, error) {
	if len(addrs) == 0 {
		return nil, errors.New("rediscluster: no startup nodes")
	}
	eps := make([]Endpoint, 0, len(addrs))
	for _, a := range addrs {
		ep, err := parseEndpoint(a)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, nil
}
