// Package config defines the settings shared by the daemon and timerctl and
// provides helpers to load, validate, save and watch them in YAML format.
//
// Besides connection and runtime settings, Config carries the timer
// instances to run and the devices and variables registered at start.
package config
