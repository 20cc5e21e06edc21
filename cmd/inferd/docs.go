package main

// General API documentation for swaggo. Run `swag init -g cmd/inferd/docs.go`
// to generate docs, then build with -tags=swagger.
//
// @title           inferd API
// @version         1.0
// @description     HTTP API for bounded local LLM inference.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
