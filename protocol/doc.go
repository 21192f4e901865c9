package protocol

// This package implements building and parsing of the message envelopes
// that Paylink exchanges with a payment terminal over its persistent
// websocket connection.
//
// Every exchange is a single JSON object, the envelope:
//
//   ```
//   {
//     "method": "TX_START",
//     "type": "COMMAND",
//     "packageName": "com.paylink.protocol.lan",
//     "payload": "{\"payIntent\":{...},\"method\":\"TX_START\"}",
//     "id": "01H4Y..."
//   }
//   ```
//
// - `method` - one of the Method constants. Absent only on PING/PONG
//              frames, which carry no application meaning.
// - `type`   - COMMAND, QUERY, EVENT, PING or PONG. A message without a
//              resolvable type is malformed and rejected by Decode.
// - `packageName` - the protocol dialect. Terminals on the local
//              network speak PackageLAN; connections relayed through
//              the cloud speak PackageWebsocket.
// - `payload` - a JSON-encoded *string*. The envelope is double
//              encoded: the outer message is JSON and the payload field
//              is itself serialized JSON. Payloads built by this
//              package always mirror the envelope method in an inner
//              `method` field, which some dialect variants require.
// - `id`     - optional correlation token. When present on an outbound
//              message the terminal echoes it back inside an ACK
//              message. Absent means fire and forget.
//
// === Transaction lifecycle
//
// A transaction is started with TX_START and ends with exactly one of
// FINISH_OK or FINISH_CANCEL from the terminal. Between the two the
// terminal may emit UI_STATE/TX_STATE progress events, TIP_ADDED, and
// VERIFY_SIGNATURE, which the client answers with SIGNATURE_VERIFIED.
//
//   ```
//   > TX_START  {"payIntent":{...}}
//   < UI_STATE ...
//   < VERIFY_SIGNATURE {"signature":{...},"payment":"{...}"}
//   > SIGNATURE_VERIFIED {"verified":true,"payment":"{...}"}
//   < FINISH_OK {"payment":"{...}"}
//   > SHOW_WELCOME_SCREEN
//   ```
//
// Note the payment object inside FINISH_OK and VERIFY_SIGNATURE
// payloads is encoded a third time, as a JSON string field of the
// payload object. Decode leaves the payload string untouched; callers
// peel the layers with gjson.
//
// === Fire-and-acknowledge exchanges
//
// Print, cash drawer and keystroke messages carry an `id` and are
// answered by a single ACK echoing that id:
//
//   ```
//   > PRINT_TEXT {"textLines":[...]} id=01H4Y...
//   < ACK id=01H4Y...
//   ```
//
// === Liveness
//
// PING/PONG frames have a type but no method. Either side may send a
// PING; the peer must answer with a PONG. Connection liveness detection
// is built on these, see the transport package.
//
// Decoding never rejects an unknown method: vocabulary matching happens
// downstream during dispatch so new terminal firmware cannot break the
// read loop.
