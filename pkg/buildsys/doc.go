// Package buildsys runs the project's task recipe. Tasks are declared in a Starlark
// script (tasks.star) and their commands are executed by the mvdan.cc/sh interpreter so
// the recipe behaves the same on every platform.
package buildsys
