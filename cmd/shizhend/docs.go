package main

// General API documentation for swaggo. Regenerate internal/apidocs with
// `swag init -g cmd/shizhend/docs.go -o internal/apidocs`.
//
// @title           ShizhenGPT API
// @version         1.0
// @description     HTTP API for Traditional Chinese Medicine chat and image analysis with ShizhenGPT-32B-VL.
//
// @contact.name   shizhend maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
