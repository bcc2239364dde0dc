/*
Package payclient provides the authenticated core of a payment provider REST client.

# Overview

The provider exposes two independently authenticated API surfaces, modelled as
EndpointFamily values: Standard and Alternate. Each family has its own base URL
and its own cached access token; the two are never shared.

The package is organized around two main types:

  - TokenManager: performs the OAuth2 client-credentials exchange, caches one
    Credential per family and optionally persists them through a Store
  - Dispatcher: sends API requests, authenticating on demand and injecting the
    bearer token

Construct one TokenManager per process and share it:

	tokens := payclient.NewTokenManager(payclient.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}, payclient.WithStore(store), payclient.WithLogger(logger))

	// Restore tokens persisted by a previous run
	if err := tokens.Warm(ctx); err != nil {
		return err
	}

	api := payclient.NewDispatcher(tokens, payclient.WithLogger(logger))

	resp, err := api.Post(ctx, payclient.Alternate, "v2/checkout/orders", order)

# Token Lifetime

A Credential's ExpiresAt is computed locally as

	issued_at + expires_in - SafetyMargin

with expires_in defaulting to one hour when the provider omits it and
SafetyMargin defaulting to 180 seconds. A token obtained at unix time 1000
with expires_in 3600 therefore expires at 4420. GetValid only returns tokens
whose ExpiresAt lies strictly in the future.

# Sending Requests

Dispatcher.Send never mutates the caller's Request. It works on a deep copy:

  - relative URLs are resolved against the family's base URL
  - Authorization: Bearer <token> is set
  - FullRepresentation is cleared and replaced by "Prefer: return=representation"

If no valid token is cached, Send authenticates exactly once. When that fails
it returns *UnauthenticatedError and the request is never sent.

# Error Handling

Transports and the token exchange fail with one of three Failure types:

  - *TransportError: no response (network error, timeout, cancellation)
  - *HTTPStatusError: non-2xx response, with the provider's name, message and details
  - *MalformedResponseError: 2xx response that could not be used

Send wraps these in *RequestError whose Message is produced by Normalize:

	var reqErr *payclient.RequestError
	if errors.As(err, &reqErr) {
		// e.g. "Status 422, VALIDATION_ERROR, DUPLICATE already exists"
		log.Println(reqErr.Message, reqErr.StatusCode())
	}

	if errors.Is(err, payclient.ErrUnauthenticated) {
		// credentials rejected or provider unreachable
	}

Authenticate itself never returns an error; it logs the failure, records it
for LastError and reports false.

# Persistence

Any payclient.Store can keep tokens across restarts. Implementations live in
pkg/tokenstore (in-memory and a sealing decorator), pkg/tokenstore/redisstore
and pkg/tokenstore/sqlitestore. Persistence failures are logged and counted
but never fail authentication.

# Observability

Both types log through log/slog, emit OpenTelemetry spans named
"payclient.Authenticate" and "payclient.Send", and record Prometheus metrics
prefixed with "payclient_".
*/
package payclient
