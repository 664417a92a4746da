package main

// General API documentation for swaggo. Run `swag init -g cmd/llmd/docs.go`
// to regenerate.
//
// @title           llmd API
// @version         1.0
// @description     OpenAI-compatible gateway for locally served LLMs.
//
// @contact.name   llmd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
