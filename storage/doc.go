// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package storage provides the durable key/value backends used to persist a
session and the short lived login requests between application loads.

Three backends implement KV:

  - MemoryKV, process local and used by tests and the "memory" backend.
  - FileKV, one file per key under a private directory (see DefaultDir).
  - RedisKV, for deployments that share a session between processes.

Every backend honors a per-key TTL and supports Take, a read-once get that
removes the key so a value can never be consumed twice.
*/
package storage
