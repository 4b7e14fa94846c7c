package main

// General API documentation for swaggo. Generate with
// `swag init -g cmd/chatd/docs.go` and build with -tags=swagger.
//
// @title           chatd API
// @version         1.0
// @description     Chat completions over a recurrent language model with conversation prefix caching.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
