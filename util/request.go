package util

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
)

// RequestBuilder assembles http requests for handler tests.
type RequestBuilder struct {
	method      string
	url         string
	postParams  interface{}
	queryParams map[string]string
	headers     map[string]string
}

func NewRequestBuilder(method, url string) *RequestBuilder {
	return &RequestBuilder{
		method:      method,
		url:         url,
		queryParams: make(map[string]string),
		headers:     make(map[string]string),
	}
}

func (rb *RequestBuilder) WithPostParams(params interface{}) *RequestBuilder {
	rb.postParams = params
	return rb
}

func (rb *RequestBuilder) WithQueryParams(params map[string]string) *RequestBuilder {
	for key, value := range params {
		rb.queryParams[key] = value
	}
	return rb
}

func (rb *RequestBuilder) WithHeader(key, value string) *RequestBuilder {
	rb.headers[key] = value
	return rb
}

func (rb *RequestBuilder) Build() (*http.Request, error) {
	var body bytes.Buffer
	if rb.postParams != nil {
		if raw, isRaw := rb.postParams.([]byte); isRaw {
			body.Write(raw)
		} else if err := json.NewEncoder(&body).Encode(rb.postParams); err != nil {
			return nil, err
		}
	}

	requestURL, err := url.Parse(rb.url)
	if err != nil {
		return nil, err
	}
	if len(rb.queryParams) > 0 {
		query := requestURL.Query()
		for key, value := range rb.queryParams {
			query.Set(key, value)
		}
		requestURL.RawQuery = query.Encode()
	}

	req, err := http.NewRequest(rb.method, requestURL.String(), &body)
	if err != nil {
		return nil, err
	}
	if rb.postParams != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range rb.headers {
		req.Header.Set(key, value)
	}
	return req, nil
}
