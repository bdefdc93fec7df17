// Copyright (c) Bas van Beek 2022.
// Copyright (c) Tetrate, Inc 2021.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/basvanbeek/hubstep/pkg/observability"
)

// Component identifies this transport layer in span names and tags.
const Component = "net/http"

// RequestIDHeader carries the request identifier assigned by the edge.
const RequestIDHeader = "X-GitHub-Request-Id"

// tag keys
const (
	TagComponent  = "component"
	TagSpanKind   = "span.kind"
	TagHTTPURL    = "http.url"
	TagHTTPMethod = "http.method"
	TagStatusCode = "http.status_code"
	TagRequestID  = "guid:github_request_id"
)

// SpanName returns the name of the server span for a request method.
func SpanName(method string) string {
	return Component + " " + method
}

// RequestTags derives the tags a request's server span is started with. The
// request id tag is only present if the request carries a non-empty
// RequestIDHeader. r is not modified.
func RequestTags(r *http.Request) observability.Tags {
	tags := []observability.Tag{
		{Key: TagComponent, Value: Component},
		{Key: TagSpanKind, Value: observability.SpanKindServer.String()},
		{Key: TagHTTPURL, Value: RequestURL(r)},
		{Key: TagHTTPMethod, Value: r.Method},
	}
	if id := r.Header.Get(RequestIDHeader); id != "" {
		tags = append(tags, observability.Tag{Key: TagRequestID, Value: id})
	}
	return observability.NewTags(tags...)
}

// RequestURL reconstructs the full URL the client requested. Server side
// requests only carry the request URI so scheme and host are recovered from
// the connection and the forwarding headers set by proxies.
func RequestURL(r *http.Request) string {
	if r.URL.IsAbs() && r.URL.Host != "" {
		return r.URL.String()
	}

	scheme := requestScheme(r)
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	if i := strings.IndexByte(host, ','); i >= 0 {
		host = strings.TrimSpace(host[:i])
	}
	return scheme + "://" + stripDefaultPort(scheme, host) + r.URL.RequestURI()
}

func requestScheme(r *http.Request) string {
	for _, h := range []string{"X-Forwarded-Proto", "X-Forwarded-Scheme"} {
		v := r.Header.Get(h)
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = v[:i]
		}
		if v = strings.ToLower(strings.TrimSpace(v)); v == "http" || v == "https" {
			return v
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func stripDefaultPort(scheme, host string) string {
	h, port, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		if strings.IndexByte(h, ':') >= 0 {
			return "[" + h + "]"
		}
		return h
	}
	return host
}
