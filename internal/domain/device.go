package domain

import "time"

// DeviceEndpoint is one push endpoint registered by one user.
type DeviceEndpoint struct {
	UserID      string    `json:"user_id" dynamodbav:"user_id"`
	EndpointArn string    `json:"endpoint_arn" dynamodbav:"endpoint_arn"`
	LastChange  time.Time `json:"last_change" dynamodbav:"last_change"`
}

// EndpointStatus is the gateway's view of a single endpoint.
type EndpointStatus struct {
	Arn     string
	Enabled bool
}

type RegisterEndpointRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	DeviceToken string `json:"token" validate:"required"`
}

type UnregisterEndpointRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	EndpointArn string `json:"endpoint_arn" validate:"required"`
}
