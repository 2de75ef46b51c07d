// Package event provides a typed in-memory observer channel for engine
// lifecycle notifications: certificate issuance and renewal, configuration
// applies, renewal failures.
//
// The Bus replaces hidden module-level emitters with an injected
// dependency: the engine publishes, interested consumers range over
// Events(). Suitable for single-instance deployments; a distributed setup
// would put a broker behind the same Publish surface.
package event
