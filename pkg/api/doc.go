// Package api defines the wire protocol of the faden gateway: the OpenAI
// Chat Completions request, response and streaming chunk types, the error
// envelope, ID generation, request validation, and conversion between the
// wire messages and the in-memory conversation model.
//
// The package performs no I/O. All types produce JSON compatible with the
// OpenAI Chat Completions API, so stock client libraries work unchanged.
//
// Core types:
//   - [ChatCompletionRequest]: client request carrying the full history
//   - [ChatCompletionResponse]: non-streaming answer
//   - [ChatCompletionChunk]: one server-sent event of a streaming answer
//   - [APIError]: structured error with type, code, param, and message
package api
