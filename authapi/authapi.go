// Package authapi calls the backend's login, register and logout endpoints.
package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/briangreenhill/killerwiki/beclient"
	"github.com/briangreenhill/killerwiki/models"
)

// ErrNoToken is returned by Logout when called without a token
var ErrNoToken = errors.New("logout requires a token")

type Client struct {
	http *beclient.Client
}

func New(hc *beclient.Client) *Client {
	return &Client{http: hc}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login never fails: a 401 carries the server's own response, and any other
// failure is reported as an ERROR response with the error message.
func (c *Client) Login(ctx context.Context, email, password string) models.AuthResponse {
	resp, err := c.http.Post(ctx, "/api/auth/login", loginRequest{Email: email, Password: password}, nil)
	return authResponse(resp, err, http.StatusUnauthorized)
}

// Register behaves like Login but also reads the body of a 400
func (c *Client) Register(ctx context.Context, name, email, password string) models.AuthResponse {
	resp, err := c.http.Post(ctx, "/api/auth/register",
		registerRequest{Name: name, Email: email, Password: password}, nil)
	return authResponse(resp, err, http.StatusBadRequest, http.StatusUnauthorized)
}

// Logout ends the server side session for jwt
func (c *Client) Logout(ctx context.Context, jwt string) error {
	if jwt == "" {
		return ErrNoToken
	}
	_, err := c.http.Post(ctx, "/api/auth/logout", nil, http.Header{"Authorization": {"Bearer " + jwt}})
	return err
}

func authResponse(resp *beclient.Response, err error, bodyStatuses ...int) models.AuthResponse {
	if err == nil {
		var out models.AuthResponse
		if derr := resp.Decode(&out); derr != nil {
			return models.AuthResponse{Status: models.StatusError, Message: derr.Error()}
		}
		return out
	}

	var berr *beclient.Error
	if errors.As(err, &berr) {
		for _, s := range bodyStatuses {
			if berr.Status != s {
				continue
			}
			var out models.AuthResponse
			if json.Unmarshal(berr.Body, &out) == nil && out.Status != "" {
				return out
			}
		}
	}
	return models.AuthResponse{Status: models.StatusError, Message: err.Error()}
}
