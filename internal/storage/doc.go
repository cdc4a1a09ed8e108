package storage

// Package storage provides the minimal persistence layer used by the bot.
//
// It is a key -> blob store holding:
//   - The contest snapshot (fetch timestamp + raw contest list)
//   - The guild settings map
//   - Timestamped settings backups (written, never read back automatically)
