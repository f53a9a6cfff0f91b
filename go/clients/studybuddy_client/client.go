package studybuddy_client

import (
	"github.com/mcdev12/studybuddy/go/clients"
)

// Client is the REST client for the StudyBuddy backend. baseURL includes the
// API prefix, e.g. http://localhost:8080/api.
type Client struct {
	*clients.BaseClient
}

func NewClient(baseURL string, tokens clients.TokenSource) *Client {
	client := &Client{
		BaseClient: clients.NewBaseClient(baseURL),
	}

	client.SetHeader("Accept", "application/json")
	client.SetTokenSource(tokens)

	return client
}
