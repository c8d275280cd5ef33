// Package ingest feeds samples published on MQTT or Kafka into the store.
//
// Both transports carry the same JSON payload, either one sample object or
// a batch:
//
//	{"device_id": "mill-1", "samples": [
//	  {"signal_id": "exec", "timestamp": "2026-01-01T00:00:00Z", "value": "ACTIVE"}
//	]}
//
// When device_id is absent it is taken from the MQTT topic (the segment
// matched by the first '+' wildcard) or the Kafka message key.
package ingest
