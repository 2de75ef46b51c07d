package acme

import (
	"crypto"

	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
)

// Client is the slice of the ACME client surface the workflow needs. The
// indirection exists so tests can drive the workflow against a stub CA, and
// so staging and production directories are just configuration.
type Client interface {
	// Register creates or retrieves the ACME account for the configured key.
	Register(options registration.RegisterOptions) (*registration.Resource, error)

	// SetHTTP01Provider installs the challenge provider used to publish
	// key authorizations.
	SetHTTP01Provider(provider challenge.Provider) error

	// Obtain runs order, authorization, challenge, and finalization for the
	// requested domains and returns the issued material.
	Obtain(request certificate.ObtainRequest) (*certificate.Resource, error)
}

// ClientFactory builds a Client from lego configuration.
type ClientFactory func(*lego.Config) (Client, error)

func defaultClientFactory(cfg *lego.Config) (Client, error) {
	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &legoClient{client: client}, nil
}

type legoClient struct {
	client *lego.Client
}

func (c *legoClient) Register(options registration.RegisterOptions) (*registration.Resource, error) {
	return c.client.Registration.Register(options)
}

func (c *legoClient) SetHTTP01Provider(provider challenge.Provider) error {
	return c.client.Challenge.SetHTTP01Provider(provider)
}

func (c *legoClient) Obtain(request certificate.ObtainRequest) (*certificate.Resource, error) {
	return c.client.Certificate.Obtain(request)
}

// account implements lego's registration.User.
type account struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (a *account) GetEmail() string                        { return a.email }
func (a *account) GetRegistration() *registration.Resource { return a.registration }
func (a *account) GetPrivateKey() crypto.PrivateKey        { return a.key }
