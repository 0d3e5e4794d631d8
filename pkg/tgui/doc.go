// Package tgui renders chat UI: HTML-escaped message builders, inline
// keyboards and "plugin:action:payload" callback data. Cards, lists and
// pagers of the bot's plugins are built with it.
package tgui
