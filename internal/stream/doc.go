// Package stream implements the chunked streaming transport used to talk to
// chat agents.
//
// # Wire Protocol
//
// A request is a multipart/form-data POST carrying the query, the target
// bot, conversation and model, plus zero or more binary attachments:
//
//	query=<text> bot_id=<id> conversation_id=<id> model_name=<name> attachments=@file
//	Authorization: Bearer <token>
//
// The response body is a sequence of frames separated by a blank line. Each
// frame is one JSON object:
//
//	{"type":"message","content":"partial text"}
//
//	{"type":"final","content":{"final_response":"...","selected_ids":[1],"selected_documents":[...]}}
//
//	{"type":"error","content":"agent failed"}
//
// Frames may also be sent with an SSE style "data:" prefix, which is stripped.
//
// # Framing
//
// Network chunks never line up with frames, so the Decoder keeps a carry-over
// buffer between reads. A frame that fails to parse is reported as a
// ProtocolError and reading continues with the next frame.
//
// # Cancellation
//
// Client.Send takes a context as its cancel token. The context is checked
// again right before every callback, so a cancelled send never fires a
// callback even if a read was already buffered.
package stream
