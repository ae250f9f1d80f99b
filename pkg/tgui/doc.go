// Package tgui holds the small Telegram UI helpers the bot renders with:
// inline keyboards, "plugin:action:payload" callback data and an HTML-safe
// message builder (ParseMode=HTML, previews off).
package tgui
