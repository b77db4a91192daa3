// clock-data inspects the smart clock's data files
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/homeclock/clockd/internal/alarm"
	"github.com/homeclock/clockd/internal/petcare"
	"github.com/homeclock/clockd/internal/storage"
)

var (
	configDir string
	cacheDir  string
	rootCmd   = &cobra.Command{
		Use:   "clock-data",
		Short: "Smart clock data CLI",
		Long:  "Command-line tool for inspecting the smart clock's settings, alarm, pet care, timetable and weather files.",
	}

	settingsCmd = &cobra.Command{
		Use:   "settings",
		Short: "Show user settings",
		RunE:  showSettings,
	}

	alarmCmd = &cobra.Command{
		Use:   "alarm",
		Short: "Show the alarm and its next trigger",
		RunE:  showAlarm,
	}

	petsCmd = &cobra.Command{
		Use:   "pets",
		Short: "Show pet care bars",
		RunE:  showPets,
	}

	resetPetCmd = &cobra.Command{
		Use:   "reset-pet [item]",
		Short: "Refill a pet care bar",
		Long:  "Refill a pet care bar. A running clockd reloads pigs.json on its next read and keeps the reset.",
		Args:  cobra.ExactArgs(1),
		RunE:  resetPet,
	}

	scheduleCmd = &cobra.Command{
		Use:   "schedule [day]",
		Short: "Show the timetable",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showSchedule,
	}

	weatherCmd = &cobra.Command{
		Use:   "weather",
		Short: "Show the cached weather",
		RunE:  showWeather,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config-dir", "d", "config", "Directory with the JSON documents")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "cache", "Directory with the weather cache")

	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(alarmCmd)
	rootCmd.AddCommand(petsCmd)
	rootCmd.AddCommand(resetPetCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(weatherCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newWriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

func showSettings(cmd *cobra.Command, args []string) error {
	var doc map[string]any
	if err := storage.ReadJSON(filepath.Join(configDir, "user_config.json"), &doc); err != nil {
		return err
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := newWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "KEY\tVALUE")
	fmt.Fprintln(w, "---\t-----")
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%v\n", k, doc[k])
	}
	return w.Flush()
}

func showAlarm(cmd *cobra.Command, args []string) error {
	var doc storage.AlarmDocument
	if err := storage.ReadJSON(filepath.Join(configDir, "alarm.json"), &doc); err != nil {
		return err
	}
	a := doc.Alarm

	next := "-"
	if t := alarm.NextTrigger(a, time.Now()); !t.IsZero() {
		next = t.Format("Mon 2006-01-02 15:04")
	}
	repeat := a.Repeat.String()
	if a.Repeat.Empty() {
		repeat = "once"
	}

	w := newWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ENABLED\tTIME\tREPEAT\tRINGTONE\tFADE IN\tNEXT")
	fmt.Fprintln(w, "-------\t----\t------\t--------\t-------\t----")
	fmt.Fprintf(w, "%v\t%s\t%s\t%s\t%v\t%s\n", a.Enabled, a.Time, repeat, a.Ringtone, a.FadeIn, next)
	return w.Flush()
}

func showPets(cmd *cobra.Command, args []string) error {
	path := filepath.Join(configDir, "pigs.json")
	if _, err := os.Stat(path); err != nil {
		return err
	}
	timer, err := petcare.New(path, nil, nil, nil)
	if err != nil {
		return err
	}

	values := timer.GetAllValues()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	w := newWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ITEM\tLABEL\tLEVEL\tSTATUS\tMAX HOURS\tLAST RESET")
	fmt.Fprintln(w, "----\t-----\t-----\t------\t---------\t----------")
	for _, name := range names {
		v := values[name]
		fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%s\t%g\t%s\n",
			name, v.Label, v.Percentage, v.Status, v.MaxHours, v.LastReset.Format(storage.LocalTimeLayout))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nOverall: %.0f%%\n", timer.Overall()*100)
	if critical := timer.CriticalItems(); len(critical) > 0 {
		fmt.Fprintf(out, "Critical: %s\n", strings.Join(critical, ", "))
	}
	for _, pig := range timer.Pigs() {
		fmt.Fprintf(out, "Pig: %s\n", pig.Name)
	}
	return nil
}

func resetPet(cmd *cobra.Command, args []string) error {
	timer, err := petcare.New(filepath.Join(configDir, "pigs.json"), nil, nil, nil)
	if err != nil {
		return err
	}
	if err := timer.ResetBar(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", args[0])
	return nil
}

func showSchedule(cmd *cobra.Command, args []string) error {
	var doc storage.ScheduleDocument
	if err := storage.ReadJSON(filepath.Join(configDir, "schedule.json"), &doc); err != nil {
		return err
	}

	days := storage.DayNames
	if len(args) == 1 {
		d, err := storage.ParseDay(args[0])
		if err != nil {
			return err
		}
		days = []string{storage.DayName(d)}
	}

	w := newWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "DAY\tTIME\tSUBJECT\tROOM\tTEACHER")
	fmt.Fprintln(w, "---\t----\t-------\t----\t-------")
	for _, day := range days {
		for _, l := range storage.SortLessons(lessonsFor(doc.Schedule, day)) {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", day, l.Time, l.Subject, l.Room, l.Teacher)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !doc.LastUpdated.IsZero() {
		fmt.Fprintf(cmd.OutOrStdout(), "\nLast updated: %s\n", doc.LastUpdated)
	}
	return nil
}

// lessonsFor collects a day's lessons under any spelling of its key
func lessonsFor(s storage.Schedule, day string) []storage.Lesson {
	var out []storage.Lesson
	for key, lessons := range s {
		if d, err := storage.ParseDay(key); err == nil && storage.DayName(d) == day {
			out = append(out, lessons...)
		}
	}
	return out
}

func showWeather(cmd *cobra.Command, args []string) error {
	var snap storage.WeatherSnapshot
	if err := storage.ReadJSON(filepath.Join(cacheDir, "weather.json"), &snap); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Updated: %s (%s ago)\n", snap.Updated, time.Since(snap.Updated.Time).Round(time.Minute))
	fmt.Fprintf(out, "Location: %.3f, %.3f\n", snap.Location.Lat, snap.Location.Lon)
	fmt.Fprintf(out, "Now: %.1f°C %s, %d%% precipitation\n", snap.Current.Temp, snap.Current.Condition, snap.Current.PrecipProb)
	if snap.Forecast5h.Time != "" {
		fmt.Fprintf(out, "At %s: %.1f°C %s, %d%% precipitation\n\n",
			snap.Forecast5h.Time, snap.Forecast5h.Temp, snap.Forecast5h.Condition, snap.Forecast5h.PrecipProb)
	}

	w := newWriter(out)
	fmt.Fprintln(w, "DAY\tDATE\tMIN\tMAX\tCONDITION\tPRECIP")
	fmt.Fprintln(w, "---\t----\t---\t---\t---------\t------")
	for _, d := range snap.WeeklyForecast {
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%.1f\t%s\t%d%%\n", d.Day, d.Date, d.TempMin, d.TempMax, d.Condition, d.PrecipProb)
	}
	return w.Flush()
}
